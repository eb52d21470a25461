// Package relay admits inbound TCP connections from authorized IPs and
// splices them to a fixed destination.
package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/matst80/portgate/internal/allowset"
	"github.com/matst80/portgate/internal/obs"
	"github.com/matst80/portgate/internal/ratelimit"
	"golang.org/x/sync/semaphore"
)

// Options configure a Relay. Zero limits mean unbounded.
type Options struct {
	Dest        string
	IdleTimeout time.Duration
	DialTimeout time.Duration
	Limiter     *ratelimit.RateLimiter
	MaxSessions int64
}

// Relay owns no state besides its options; admission is decided by the shared Store.
type Relay struct {
	store  allowset.Store
	opts   Options
	dialer net.Dialer
	slots  *semaphore.Weighted
	wg     sync.WaitGroup
}

func New(store allowset.Store, opts Options) *Relay {
	r := &Relay{store: store, opts: opts}
	if opts.MaxSessions > 0 {
		r.slots = semaphore.NewWeighted(opts.MaxSessions)
	}
	return r
}

// Serve accepts connections on ln until ctx is canceled or ln is closed.
// Accept failures are logged and never stop the loop. On cancellation Serve
// closes ln and returns once every session it started has been torn down.
func (r *Relay) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var backoff time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				r.wg.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			obs.Error("relay.accept", obs.Fields{"err": err.Error(), "retry_in": backoff.String()})
			obs.ErrorsTotal.WithLabelValues("accept").Inc()
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				r.wg.Wait()
				return nil
			}
			continue
		}
		backoff = 0
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.handle(ctx, c)
		}()
	}
}

func (r *Relay) handle(ctx context.Context, in net.Conn) {
	remote := in.RemoteAddr().String()
	ip, err := allowset.PeerIP(in.RemoteAddr())
	if err != nil || !r.store.Contains(ctx, ip) {
		// Unauthorized peers get a bare close, indistinguishable from a dead port.
		_ = in.Close()
		obs.Debug("relay.denied", obs.Fields{"remote": remote})
		obs.SessionsTotal.WithLabelValues(string(ResultDenied)).Inc()
		return
	}
	if !r.opts.Limiter.AllowConnection(ip) {
		r.refuse(in, remote, "rate")
		return
	}
	if r.slots != nil {
		if !r.slots.TryAcquire(1) {
			r.refuse(in, remote, "max_sessions")
			return
		}
		defer r.slots.Release(1)
	}

	dctx := ctx
	if r.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, r.opts.DialTimeout)
		defer cancel()
	}
	out, err := r.dialer.DialContext(dctx, "tcp", r.opts.Dest)
	if err != nil {
		_ = in.Close()
		obs.Error("relay.dial", obs.Fields{"err": err.Error(), "remote": remote, "dest": r.opts.Dest})
		obs.ErrorsTotal.WithLabelValues("dial").Inc()
		obs.SessionsTotal.WithLabelValues(string(ResultConnectFailed)).Inc()
		return
	}

	obs.Debug("relay.session.start", obs.Fields{"remote": remote, "dest": r.opts.Dest})
	obs.SessionsActive.Inc()
	start := time.Now()
	res, err := Forward(ctx, in, out, r.opts.IdleTimeout)
	elapsed := time.Since(start)
	obs.SessionsActive.Dec()
	obs.SessionDurationSeconds.Observe(elapsed.Seconds())
	obs.SessionsTotal.WithLabelValues(string(res)).Inc()

	f := obs.Fields{"remote": remote, "result": string(res), "duration": elapsed.String()}
	if err != nil {
		f["err"] = err.Error()
	}
	obs.Debug("relay.session.end", f)
}

func (r *Relay) refuse(in net.Conn, remote, reason string) {
	_ = in.Close()
	obs.Debug("relay.limited", obs.Fields{"remote": remote, "reason": reason})
	obs.SessionsTotal.WithLabelValues(string(ResultLimited)).Inc()
}
