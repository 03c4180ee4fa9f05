package webserver

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stake-plus/reactionroles/src/roles"
)

type handlers struct {
	store   Store
	sweeper Sweeper
	now     func() time.Time
}

type cleanupEntry struct {
	roles.CleanupEntry
	AgeSeconds int64 `json:"ageSeconds"`
}

func (h *handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) ListBindings(c *gin.Context) {
	sets, err := h.store.BindingSets(c.Request.Context())
	if err != nil {
		internalError(c, "list bindings", err)
		return
	}
	if sets == nil {
		sets = []roles.BindingSet{}
	}
	c.JSON(http.StatusOK, gin.H{"bindings": sets})
}

func (h *handlers) GetBinding(c *gin.Context) {
	set, err := h.store.BindingSet(c.Request.Context(), c.Param("messageID"))
	if errors.Is(err, roles.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"err": "no binding set for message"})
		return
	}
	if err != nil {
		internalError(c, "get binding", err)
		return
	}
	c.JSON(http.StatusOK, set)
}

func (h *handlers) CleanupQueue(c *gin.Context) {
	entries, err := h.store.CleanupQueue(c.Request.Context())
	if err != nil {
		internalError(c, "cleanup queue", err)
		return
	}
	now := time.Now()
	if h.now != nil {
		now = h.now()
	}
	out := make([]cleanupEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, cleanupEntry{CleanupEntry: e, AgeSeconds: int64(e.Age(now) / time.Second)})
	}
	c.JSON(http.StatusOK, gin.H{"queue": out})
}

func (h *handlers) Sweep(c *gin.Context) {
	report, err := h.sweeper.FullSweep(c.Request.Context())
	if err != nil {
		internalError(c, "sweep", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func internalError(c *gin.Context, op string, err error) {
	log.Printf("webserver: %s: %v", op, err)
	c.JSON(http.StatusInternalServerError, gin.H{"err": op + " failed"})
}
