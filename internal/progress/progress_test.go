package progress

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBar_CountsWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	b := New("Scanning", 10, &buf)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Add(1)
		}()
	}
	wg.Wait()
	b.Finish()

	assert.Equal(t, int64(10), b.Done())
	assert.Equal(t, 1.0, b.Fraction())
	assert.Empty(t, buf.String())
}

func TestBar_NilIsNoop(t *testing.T) {
	var b *Bar
	b.Add(3)
	b.Finish()
	assert.Zero(t, b.Done())

	var r Reporter = b
	r.Add(1)
}
