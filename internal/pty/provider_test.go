package pty

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataSinkBuffersUntilCallbackRegistered(t *testing.T) {
	var d dataSink

	d.deliver([]byte("early-1"))
	d.deliver([]byte("early-2"))

	var got []string
	d.set(func(chunk []byte) { got = append(got, string(chunk)) })

	require.Equal(t, []string{"early-1", "early-2"}, got)
}

func TestDataSinkDeliversDirectlyOnceRegistered(t *testing.T) {
	var d dataSink
	var got []string
	d.set(func(chunk []byte) { got = append(got, string(chunk)) })

	d.deliver([]byte("late-1"))
	require.Equal(t, []string{"late-1"}, got)
}

func TestDataSinkDeliverCopiesReusedBuffer(t *testing.T) {
	var d dataSink
	var got []byte
	d.set(func(chunk []byte) { got = chunk })

	buf := []byte("mutate-me")
	d.deliver(buf)
	copy(buf, "clobbered")

	require.Equal(t, "mutate-me", string(got))
}
