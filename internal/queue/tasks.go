package queue

import "time"

const (
	TypeEmailSend = "email:send"
	TypeDemoAdd   = "demo:add"
	TypeDemoText  = "demo:text"
	TypeDemoLong  = "demo:long"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

type DemoAddPayload struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type DemoTextPayload struct {
	Text string `json:"text"`
}

type DemoLongPayload struct {
	Steps int `json:"steps"`
}

// DemoProgress is written as the task result while a long demo runs.
type DemoProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// demoKind describes one entry of the job demo.
type demoKind struct {
	taskType string
	label    string
	payload  any
	timeout  time.Duration
}

var demoKinds = map[string]demoKind{
	"add":  {taskType: TypeDemoAdd, label: "addition", payload: DemoAddPayload{X: 4, Y: 4}, timeout: time.Minute},
	"text": {taskType: TypeDemoText, label: "text_processing", payload: DemoTextPayload{Text: "hello world"}, timeout: time.Minute},
	"long": {taskType: TypeDemoLong, label: "long_running", payload: DemoLongPayload{Steps: 10}, timeout: 2 * time.Minute},
}
