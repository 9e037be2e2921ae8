package capability

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLease_RevokesDerivedProxies(t *testing.T) {
	l := NewLease()
	p, ok := l.Attenuate(newWidget(), nil, nil).(*Proxy)
	require.True(t, ok)

	in, err := p.GetProxy("Inner")
	require.NoError(t, err)
	got, err := p.Call("Child")
	require.NoError(t, err)
	child := got.(*Proxy)

	assert.False(t, l.Revoked())
	l.Revoke()
	assert.True(t, l.Revoked())

	_, err = p.Get("Name")
	assert.ErrorIs(t, err, ErrRevoked)
	_, err = p.Call("Greet", "bob")
	assert.ErrorIs(t, err, ErrRevoked)
	_, err = in.GetString("Label")
	assert.ErrorIs(t, err, ErrRevoked)
	_, err = child.GetString("Name")
	assert.ErrorIs(t, err, ErrRevoked)

	// Names stay visible; only access is refused.
	assert.True(t, p.Has("Name"))
}

func TestLease_Nil(t *testing.T) {
	var l *Lease
	l.Revoke()
	assert.False(t, l.Revoked())

	p := l.Attenuate(newWidget(), nil, nil).(*Proxy)
	name, err := p.GetString("Name")
	require.NoError(t, err)
	assert.Equal(t, "w", name)
}

type gate struct {
	entered chan struct{}
	release chan struct{}
	done    bool
}

func (g *gate) Wait() {
	close(g.entered)
	<-g.release
	g.done = true
}

func TestLease_RevokeWaitsForCalls(t *testing.T) {
	l := NewLease()
	g := &gate{entered: make(chan struct{}), release: make(chan struct{})}
	p := l.Attenuate(g, nil, nil).(*Proxy)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := p.Call("Wait")
		assert.NoError(t, err)
	}()
	<-g.entered

	revoked := make(chan struct{})
	go func() {
		l.Revoke()
		close(revoked)
	}()

	select {
	case <-revoked:
		t.Fatal("Revoke returned while a call was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(g.release)
	<-revoked
	wg.Wait()
	assert.True(t, g.done)

	_, err := p.Call("Wait")
	assert.ErrorIs(t, err, ErrRevoked)
}

func TestGet_RefusesMethods(t *testing.T) {
	p := New(newWidget(), nil, nil)

	_, err := p.Get("Greet")
	assert.ErrorIs(t, err, ErrMethod)

	got, err := p.Call("Greet", "ann")
	require.NoError(t, err)
	assert.Equal(t, "hi ann from w", got)
}
