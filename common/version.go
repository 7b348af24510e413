package common

// Version is the service version. Overwritten at build time:
//
//	go build -ldflags "-X github.com/keyhaven/guardian-recovery-backend/common.Version=v1.2.3"
var Version = "dev"
