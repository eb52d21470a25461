package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/matst80/portgate/internal/obs"
)

// Result is the terminal state of one inbound connection.
type Result string

const (
	ResultCompleted     Result = "completed"
	ResultErrored       Result = "errored"
	ResultTimedOut      Result = "timed_out"
	ResultCanceled      Result = "canceled"
	ResultConnectFailed Result = "connect_failed"
	ResultDenied        Result = "denied"
	ResultLimited       Result = "limited"
)

// Forward copies bytes between client and dest in both directions until one
// direction ends, then closes both connections. With timeout > 0 the whole
// exchange is cut off at the deadline whether or not data is still flowing.
func Forward(ctx context.Context, client, dest net.Conn, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var once sync.Once
	closeBoth := func() { _ = client.Close(); _ = dest.Close() }
	defer once.Do(closeBoth)

	errc := make(chan error, 2)
	copyFn := func(dst, src net.Conn, direction string) {
		n, err := io.Copy(dst, src)
		obs.BytesTotal.WithLabelValues(direction).Add(float64(n))
		errc <- err
	}
	go copyFn(dest, client, "to_dest")
	go copyFn(client, dest, "to_client")

	var first error
	select {
	case first = <-errc:
	case <-ctx.Done():
		once.Do(closeBoth)
		<-errc
		<-errc
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ResultTimedOut, ctx.Err()
		}
		return ResultCanceled, ctx.Err()
	}
	once.Do(closeBoth)
	<-errc // the other direction fails on the closed socket
	if first != nil {
		return ResultErrored, first
	}
	return ResultCompleted, nil
}
