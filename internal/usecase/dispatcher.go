package usecase

import (
	"fmt"
	"sync"

	"github.com/vitos/crypto_quote_cache/internal/domain"
	"go.uber.org/zap"
)

// Dispatcher fans market data events out to registered listeners. Delivery is synchronous
// on the publishing goroutine; a panicking listener is logged and skipped.
type Dispatcher struct {
	logger *zap.Logger

	mu        sync.RWMutex
	listeners []namedListener
}

type namedListener struct {
	name     string
	listener domain.Listener
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{logger: logger}
}

// Register adds a listener. Events published afterwards are delivered to it.
func (d *Dispatcher) Register(name string, l domain.Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, namedListener{name: name, listener: l})
	d.logger.Info("listener registered", zap.String("listener", name))
}

func (d *Dispatcher) snapshot() []namedListener {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.listeners
}

func (d *Dispatcher) OnTrade(trade *domain.Trade) {
	for _, nl := range d.snapshot() {
		d.deliver(nl, "trade", func() { nl.listener.OnTrade(trade) })
	}
}

func (d *Dispatcher) OnBook(book *domain.Book) {
	for _, nl := range d.snapshot() {
		d.deliver(nl, "book", func() { nl.listener.OnBook(book) })
	}
}

func (d *Dispatcher) OnBar(bar *domain.Bar) {
	for _, nl := range d.snapshot() {
		d.deliver(nl, "bar", func() { nl.listener.OnBar(bar) })
	}
}

func (d *Dispatcher) deliver(nl namedListener, kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("listener panicked",
				zap.String("listener", nl.name),
				zap.String("event", kind),
				zap.Error(fmt.Errorf("%v", r)))
		}
	}()
	fn()
}
