package lut

import (
	"fmt"
	"sync"

	"github.com/phosphor3d/phosphor/core"
)

// Wire protocol across the worker boundary. Buffers inside a response are
// owned by the receiver once sent.
type workerRequest struct {
	id     uint64
	params core.GeometryParams
}

type workerResponse struct {
	id     uint64
	tables *Tables
	err    error
	fatal  bool
}

const requestBacklog = 64

// Result is the outcome of one Request. Exactly one of Tables or Err is
// set.
type Result struct {
	Tables *Tables
	Err    error
}

// tableCache is the lookup the worker consults before computing.
// DiskCache is the production implementation.
type tableCache interface {
	Load(p core.GeometryParams) (*Tables, bool)
	Store(p core.GeometryParams, t *Tables)
}

// Controller owns at most one background computation worker and correlates
// its replies with pending requests by monotonically increasing id. The
// worker is spawned lazily on the first request and respawned transparently
// after a failure or Dispose.
type Controller struct {
	log   core.Logger
	cache tableCache

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan Result
	reqCh   chan workerRequest
	quit    chan struct{}
}

// NewController creates a controller. cache may be nil to disable the disk
// cache.
func NewController(log core.Logger, cache *DiskCache) *Controller {
	c := &Controller{
		log:     core.EnsureLogger(log),
		pending: make(map[uint64]chan Result),
	}
	if cache != nil {
		c.cache = cache
	}
	return c
}

// Request schedules table generation for the given geometry and returns a
// channel that will receive exactly one Result. The channel is buffered;
// the caller may abandon it without leaking a goroutine.
func (c *Controller) Request(params core.GeometryParams) <-chan Result {
	ch := make(chan Result, 1)

	c.mu.Lock()
	if c.reqCh == nil {
		c.spawnLocked()
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	reqCh := c.reqCh
	c.mu.Unlock()

	select {
	case reqCh <- workerRequest{id: id, params: params}:
	default:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		ch <- Result{Err: ErrBacklog}
	}
	return ch
}

// Dispose rejects every pending request and terminates the worker. It is
// idempotent, and a later Request transparently respawns a fresh worker.
func (c *Controller) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.rejectAllLocked(ErrDisposed)
}

func (c *Controller) spawnLocked() {
	reqCh := make(chan workerRequest, requestBacklog)
	respCh := make(chan workerResponse, requestBacklog)
	quit := make(chan struct{})
	c.reqCh = reqCh
	c.quit = quit
	go c.worker(reqCh, respCh, quit)
	go c.dispatch(respCh, quit)
}

func (c *Controller) stopLocked() {
	if c.quit != nil {
		close(c.quit)
		c.quit = nil
		c.reqCh = nil
	}
}

func (c *Controller) rejectAllLocked(err error) {
	for id, ch := range c.pending {
		ch <- Result{Err: err}
		delete(c.pending, id)
	}
}

// worker is the background computation unit. It processes requests
// serially; a panic is converted into a fatal response so the controller
// can reject everything and let the next request start over.
func (c *Controller) worker(reqCh <-chan workerRequest, respCh chan<- workerResponse, quit <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			select {
			case respCh <- workerResponse{fatal: true, err: fmt.Errorf("lut: worker failure: %v", r)}:
			case <-quit:
			}
		}
	}()

	for {
		select {
		case <-quit:
			return
		case req := <-reqCh:
			tables := c.lookupOrCompute(req.params)
			select {
			case respCh <- workerResponse{id: req.id, tables: tables}:
			case <-quit:
				return
			}
		}
	}
}

func (c *Controller) lookupOrCompute(params core.GeometryParams) *Tables {
	if c.cache != nil {
		if t, ok := c.cache.Load(params); ok {
			return t
		}
	}
	t := Compute(params)
	if c.cache != nil {
		c.cache.Store(params, t)
	}
	return t
}

// dispatch resolves worker replies against pending requests.
func (c *Controller) dispatch(respCh <-chan workerResponse, quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case resp := <-respCh:
			if resp.fatal {
				c.log.Errorf("LUT worker failed: %v", resp.err)
				c.mu.Lock()
				// Only tear down if this worker generation is still
				// current; Dispose may have raced ahead.
				if c.quit == quit {
					c.stopLocked()
				}
				c.rejectAllLocked(resp.err)
				c.mu.Unlock()
				return
			}

			err := resp.err
			if err == nil {
				err = validateTables(resp.tables)
			}

			c.mu.Lock()
			ch, ok := c.pending[resp.id]
			if ok {
				delete(c.pending, resp.id)
			}
			c.mu.Unlock()
			if !ok {
				// Superseded or disposed; drop the tables.
				continue
			}
			if err != nil {
				ch <- Result{Err: err}
				continue
			}
			ch <- Result{Tables: resp.tables}
		}
	}
}
