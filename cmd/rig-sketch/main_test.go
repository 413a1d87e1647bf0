package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"labrig/internal/hal"
	"labrig/internal/sketch"
)

func TestParsePins(t *testing.T) {
	pins, err := parsePins("17, 27,22")
	require.NoError(t, err)
	assert.Equal(t, []int{17, 27, 22}, pins)

	_, err = parsePins("17,x")
	assert.Error(t, err)
	_, err = parsePins("-1")
	assert.Error(t, err)
}

func testDispatcher(t *testing.T) *sketch.Dispatcher {
	t.Helper()
	pins := []gpio.PinOut{&gpiotest.Pin{N: "a"}, &gpiotest.Pin{N: "b"}, &gpiotest.Pin{N: "c"}}
	adc := hal.NewSimADC("adc", hal.ModuleSketchADC, 0)
	drv, err := hal.New(pins, adc, hal.ActiveLow, hal.ModuleSketchADC)
	require.NoError(t, err)
	return sketch.NewDispatcher(sketch.ModuleSketch, drv)
}

func TestServeReturnsOnCancelWhileReadBlocks(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	var out bytes.Buffer
	rw := struct {
		io.Reader
		io.Writer
	}{pr, &out}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, rw, testDispatcher(t), 50*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServeEndsOnEOF(t *testing.T) {
	var out bytes.Buffer
	rw := struct {
		io.Reader
		io.Writer
	}{strings.NewReader("ON:1\n"), &out}

	require.NoError(t, serve(context.Background(), rw, testDispatcher(t), time.Second))
	assert.Equal(t, "Sistema listo\r\nMódulo 1 encendido\r\n", out.String())
}
