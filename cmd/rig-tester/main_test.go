package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSequence(t *testing.T) {
	assert.Equal(t, []string{"ON:1", "WAIT:500", "TEMP:pico", "OFF:1"},
		splitSequence("ON:1, WAIT:500,,TEMP:pico ,OFF:1"))
	assert.Nil(t, splitSequence(""))
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	assert.Equal(t, 2, run(nil))
	assert.Equal(t, 2, run([]string{"bogus"}))
	assert.Equal(t, 0, run([]string{"help"}))
}
