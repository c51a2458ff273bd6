package storage

import "transcoder/internal/ports"

// Provider is the storage contract used by the worker for both the source
// and destination buckets.
type Provider = ports.StorageProvider
