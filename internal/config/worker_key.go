package config

type WorkerKeyStruct struct {
	PersistResultsQueue  string
	PersistActivityQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistResultsQueue:  "persist_results_queue",
	PersistActivityQueue: "persist_activity_queue",
}
