package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
	"go.uber.org/zap"
)

// Registration is a handler together with its descriptor
type Registration struct {
	Descriptor domain.HandlerDescriptor
	Handler    port.Handler
}

// HandlerRegistry maps capabilities to handlers in registration order
type HandlerRegistry struct {
	mu    sync.RWMutex
	ids   map[string]struct{}
	byCap map[string][]Registration
	log   *zap.Logger
}

func NewHandlerRegistry(log *zap.Logger) *HandlerRegistry {
	return &HandlerRegistry{
		ids:   make(map[string]struct{}),
		byCap: make(map[string][]Registration),
		log:   log.Named("registry"),
	}
}

// Register adds h under every capability the descriptor declares
func (r *HandlerRegistry) Register(desc domain.HandlerDescriptor, h port.Handler) error {
	if desc.ID == "" {
		return fmt.Errorf("register handler: empty id")
	}
	if len(desc.Capabilities) == 0 {
		return fmt.Errorf("register handler %s: no capabilities", desc.ID)
	}
	if h == nil {
		return fmt.Errorf("register handler %s: nil handler", desc.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ids[desc.ID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateHandler, desc.ID)
	}
	r.ids[desc.ID] = struct{}{}

	reg := Registration{Descriptor: desc, Handler: h}
	for _, c := range desc.Capabilities {
		c = strings.ToLower(c)
		r.byCap[c] = append(r.byCap[c], reg)
	}

	r.log.Info("Handler registered",
		zap.String("handler", desc.ID),
		zap.Strings("capabilities", desc.Capabilities))
	return nil
}

// HandlersFor returns the handlers serving capability, first registered first
func (r *HandlerRegistry) HandlersFor(capability string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := r.byCap[strings.ToLower(capability)]
	out := make([]Registration, len(regs))
	copy(out, regs)
	return out
}

// Require fails when any of the capabilities has no handler
func (r *HandlerRegistry) Require(capabilities ...string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, c := range capabilities {
		if len(r.byCap[strings.ToLower(c)]) == 0 {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrNoHandlerForCapability, strings.Join(missing, ", "))
	}
	return nil
}

// Capabilities lists every capability with at least one handler, sorted
func (r *HandlerRegistry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make([]string, 0, len(r.byCap))
	for c := range r.byCap {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	return caps
}
