package version

// Version is the huddle build version. Release builds set it with
//
//	go build -ldflags="-X 'github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/version.Version=v1.0.0'"
var Version = "dev"
