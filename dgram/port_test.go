package dgram_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharnoff/ioapp/ccy"
	"github.com/sharnoff/ioapp/dgram"
	"github.com/sharnoff/ioapp/reactor"
)

func TestPortSwapsHandlers(t *testing.T) {
	t.Parallel()

	c := reactor.New()
	port := dgram.NewPort[string, ccy.Safe](c)

	first := make(chan string, 1)
	second := make(chan string, 1)
	sent := make(chan struct{}, 4)
	errs := make(chan dgram.ErrorCase, 4)

	port.SetDataHandler(func(msg string) {
		first <- msg
		// a handler may replace itself
		port.SetDataHandler(func(msg string) {
			second <- msg
			assert.NoError(t, port.Reply("ack:"+msg))
		})
	})
	port.SetSentHandler(func() { sent <- struct{}{} })
	port.SetErrorHandler(func(c dgram.ErrorCase, err error) {
		if c == dgram.Read {
			assert.True(t, dgram.IsAborted(err))
		}
		errs <- c
	})

	local := bindLoopback(t, port)
	done := runAsync(c)

	client := newClient(t)
	_, err := client.WriteToUDPAddrPort([]byte("one"), local)
	require.NoError(t, err)
	assert.Equal(t, "one", recv(t, first))

	_, err = client.WriteToUDPAddrPort([]byte("two"), local)
	require.NoError(t, err)
	assert.Equal(t, "two", recv(t, second))

	buf := make([]byte, 64)
	n, _, err := client.ReadFromUDPAddrPort(buf)
	require.NoError(t, err)
	assert.Equal(t, "ack:two", string(buf[:n]))
	recv(t, sent)

	require.NoError(t, port.Close())
	recv(t, done)
	assert.Equal(t, dgram.Read, recv(t, errs))
	assertEmpty(t, first)
}

func TestPortWithoutHandlersDropsEvents(t *testing.T) {
	t.Parallel()

	c := reactor.New()
	port := dgram.NewPort[[]byte, ccy.None](c)
	local := bindLoopback(t, port)
	done := runAsync(c)

	client := newClient(t)
	_, err := client.WriteToUDPAddrPort([]byte("ignored"), local)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return port.LastRemote().IsValid() }, 5*time.Second, time.Millisecond)
	require.NoError(t, port.Close())
	recv(t, done)
}

func TestPortSetHandlerWhileHandlerRuns(t *testing.T) {
	t.Parallel()

	c := reactor.New()
	port := dgram.NewPort[string, ccy.Safe](c)

	entered := make(chan struct{})
	release := make(chan struct{})
	port.SetDataHandler(func(string) {
		close(entered)
		<-release
	})
	replaced := make(chan string, 1)

	local := bindLoopback(t, port)
	done := runAsync(c)
	client := newClient(t)

	_, err := client.WriteToUDPAddrPort([]byte("first"), local)
	require.NoError(t, err)
	recv(t, entered)

	// the old handler is still running, and replacing it doesn't wait for it
	set := make(chan struct{})
	go func() {
		port.SetDataHandler(func(msg string) { replaced <- msg })
		close(set)
	}()
	recv(t, set)
	close(release)

	_, err = client.WriteToUDPAddrPort([]byte("second"), local)
	require.NoError(t, err)
	assert.Equal(t, "second", recv(t, replaced))

	require.NoError(t, port.Close())
	recv(t, done)
}
