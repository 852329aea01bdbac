package constants

import "time"

const (
	ServiceName = "netbrain-service"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
	ShutdownTimeout    = 5 * time.Second
)

const (
	DefaultMongoDBName  = "netbrain"
	DefaultCommandTopic = "netbrain_commands"
)

const (
	CollectionPollingEntries   = "polling_entries"
	CollectionIncomingPayload  = "incoming_payload"
	CollectionBenchmarkPayload = "benchmark_payload"
	CollectionTaskLog          = "task_log"
)

const (
	DefaultCorrelationIDLength = 25
	DefaultWorkers             = 4
	DefaultTickInterval        = time.Minute
	DefaultSyncEvery           = 5
	DefaultStatusPollMinutes   = 1
)

const (
	BrokerTypeInline = "inline"
	BrokerTypeKafka  = "kafka"
)

const (
	StatusNew           = "NEW"
	StatusCompleted     = "COMPLETED"
	StatusFailed        = "FAILED"
	StatusGetDeviceInfo = "GET_DEVICE_INFO"
	StatusProcessing    = "PROCESS_CONTENT"
	StatusDeleteTask    = "DELETE_TASK"
)

const (
	NetBrainSuccess       = "Success."
	NetBrainSessionKey    = "netbrain:session"
	NetBrainRawDataType   = "2"
	DefaultRawDataCommand = "sh controllers tenGigE0/0/0/0  phy"
)
