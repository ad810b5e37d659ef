package gateway

import (
	"fmt"
	"strconv"
	"strings"
)

// TaskID builds the canonical "task-<stage>-<ordinal>" identifier.
func TaskID(stageOrdinal, taskOrdinal int) string {
	return fmt.Sprintf("task-%d-%d", stageOrdinal, taskOrdinal)
}

// ParseTaskID splits a canonical task id back into stage and task ordinals.
func ParseTaskID(taskID string) (stageOrdinal, taskOrdinal int, ok bool) {
	parts := strings.Split(taskID, "-")
	if len(parts) != 3 || parts[0] != "task" {
		return 0, 0, false
	}
	stageOrdinal, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	taskOrdinal, err = strconv.Atoi(parts[2])
	if err != nil {
		return 0, 0, false
	}
	return stageOrdinal, taskOrdinal, true
}
