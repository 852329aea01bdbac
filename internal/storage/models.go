package storage

import "time"

// IncomingPayload is the raw request accepted by the ingress.
type IncomingPayload struct {
	ID          string    `bson:"_id" json:"id"`
	DeviceName  string    `bson:"devicename" json:"devicename"`
	ObjectName  string    `bson:"objectname" json:"objectname"`
	IPAddress   string    `bson:"ipaddress" json:"ipaddress"`
	CID         string    `bson:"cid" json:"cid"`
	Status      string    `bson:"status" json:"status"`
	CreatedTime time.Time `bson:"created_datetime" json:"created_datetime"`
}

// Benchmark is the task definition submitted to NetBrain. Field names follow
// the NetBrain API.
type Benchmark struct {
	TaskName    string      `bson:"taskName" json:"taskName"`
	StartDate   string      `bson:"startDate" json:"startDate"`
	Schedule    Schedule    `bson:"schedule" json:"schedule"`
	DeviceScope DeviceScope `bson:"deviceScope" json:"deviceScope"`
	CLICommands []string    `bson:"cliCommands" json:"cliCommands"`
}

type Schedule struct {
	Frequency string   `bson:"frequency" json:"frequency"`
	StartTime []string `bson:"startTime" json:"startTime"`
}

type DeviceScope struct {
	ScopeType string   `bson:"scopeType" json:"scopeType"`
	Scopes    []string `bson:"scopes" json:"scopes"`
	IPAddress string   `bson:"ipaddress" json:"ipaddress"`
}

type BenchmarkPayload struct {
	ID          string    `bson:"_id" json:"id"`
	ParentID    string    `bson:"parent_id" json:"parent_id"`
	Benchmark   Benchmark `bson:"benchmark_payload" json:"benchmark_payload"`
	Status      string    `bson:"status" json:"status"`
	CreatedTime time.Time `bson:"created_datetime" json:"created_datetime"`
}

// TaskLog tracks one benchmark task from scheduling to retirement.
type TaskLog struct {
	ID          string    `bson:"_id" json:"id"`
	ParentID    string    `bson:"parent_id" json:"parent_id"`
	TaskName    string    `bson:"task_name" json:"task_name"`
	IPAddress   string    `bson:"ipaddress" json:"ipaddress"`
	Content     string    `bson:"content" json:"content"`
	Status      string    `bson:"status" json:"status"`
	CreatedTime time.Time `bson:"created_datetime" json:"created_datetime"`
}
