package consts

import "time"

const (
	RecieveBufferSize = 4096
	SendQueueSize     = 256

	DefaultServiceName     = "NOCACHE_VTA"
	DefaultServiceID       = 1
	DefaultPort            = 24002
	DefaultVendorName      = "Thomson Reuters"
	DefaultMaxDataSize     = 64 * 1024 // largest frame accepted from a client
	DefaultSessionCapacity = 8
	DefaultWorkerCount     = 2
	DefaultQueueHighWater  = 1024
	DefaultRWFVersion      = 14 // RWF 1.4 major*10+minor
	DefaultTimeout         = 11 * time.Second
	DefaultAdminAddr       = ":8081"
	DefaultGRPCAddr        = ":9090"
	DefaultNATSPrefix      = "hitsuji"
)
