package shared

import "strconv"

// Message is the single integer exchanged between a worker and the
// coordinator. A worker always sends Ready; the coordinator answers with
// either a task index (ASSIGN) or Stop.
type Message int32

const (
	// Ready is the payload of a worker's idle request.
	Ready Message = 0
	// Stop tells a worker there is no more work.
	Stop Message = -1
)

// Assign returns the message assigning task index.
func Assign(index int) Message {
	return Message(index)
}

// IsStop reports whether m is the termination sentinel.
func (m Message) IsStop() bool {
	return m == Stop
}

// Task returns the assigned task index, or false if m is not an assignment.
func (m Message) Task() (int, bool) {
	if m < 0 {
		return 0, false
	}
	return int(m), true
}

func (m Message) String() string {
	if m.IsStop() {
		return "STOP"
	}
	return "ASSIGN(" + strconv.Itoa(int(m)) + ")"
}

// RPC method exposed by the coordinator.
const (
	ServiceName = "Coordinator"
	ReadyMethod = ServiceName + ".Ready"
)

// ReadyArgs is sent by an idle worker.
type ReadyArgs struct {
	Rank    int     `msgpack:"rank"`
	Message Message `msgpack:"message"`
}

// ReadyReply carries the coordinator's answer to one ReadyArgs.
type ReadyReply struct {
	Message Message `msgpack:"message"`
}

// WorkerStatus is the coordinator's view of one worker.
type WorkerStatus struct {
	Rank       int   `json:"rank"`
	TaskCount  int   `json:"tasks"`
	ReadyCount int   `json:"ready"`
	LastSeen   int64 `json:"last_seen"`
	Stopped    bool  `json:"stopped"`
}
