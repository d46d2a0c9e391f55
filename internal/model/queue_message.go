package model

// QueueMessage is the work item handed from ingestion to the processor
type QueueMessage struct {
	EmailID    string `json:"emailId"`
	StorageKey string `json:"storageKey"`
}
