package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicMatches(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/+/c", "a/b/c", true},
		{"a/+/c", "a/b/x/c", false},
		{"a/#", "a/b/c", true},
		{"a/#", "a", true},
		{"a/b/#", "a/b", true},
		{"+/+", "a/b", true},
		{"+/+", "a/b/c", false},
		{"a/b", "a/b/c", false},
		{"a/b/c", "a/b", false},
		{"#", "anything/at/all", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, TopicMatches(c.pattern, c.topic), "pattern=%s topic=%s", c.pattern, c.topic)
	}
}
