package models

// Collection names of the persisted store
const (
	CollectionUsers         = "users"
	CollectionJobs          = "jobs"
	CollectionAnalyses      = "analysisResults"
	CollectionCachedModels  = "cachedModels"
	CollectionCacheMetadata = "cacheMetadata"
	CollectionSyncQueue     = "syncQueue"
	CollectionSyncFailedLog = "syncFailedLog"
)

// Record is any entity owned by a repository
type Record interface {
	GetID() string
}
