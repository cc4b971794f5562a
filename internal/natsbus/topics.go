package natsbus

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic patterns for NATS pub/sub communication.

const (
	TopicEventsAll    = "events.>"
	TopicEventsRuns   = "events.run.*"
	TopicEventsAgents = "events.agents"
	TopicIPCRuns      = "host.ipc.runs"
)

// TopicEventsRun carries every snapshot of run id.
func TopicEventsRun(id uint64) string {
	return fmt.Sprintf("events.run.%d", id)
}

// RunIDFromTopic extracts the run id from an events.run.<id> subject.
func RunIDFromTopic(topic string) (uint64, bool) {
	rest, ok := strings.CutPrefix(topic, "events.run.")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
