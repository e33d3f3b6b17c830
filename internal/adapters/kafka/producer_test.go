package kafka

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_GetWriterConcurrent(t *testing.T) {
	p := NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}})
	defer p.Close()

	// First publishes for a topic can arrive from several goroutines at
	// once (handlers, timeout timers, the cleanup worker)
	topics := []string{"topic-a", "topic-b", "topic-c"}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.getWriter(topics[i%len(topics)])
		}(i)
	}
	wg.Wait()

	for _, topic := range topics {
		w := p.getWriter(topic)
		require.NotNil(t, w)
		assert.Same(t, w, p.getWriter(topic), "writer must be cached per topic")
	}
}
