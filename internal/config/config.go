// Package config loads the controller's recognized environment variables,
// matching the getEnv/getEnvInt helper style the teacher's cmd/main.go uses.
package config

import (
	"os"
	"strconv"
)

// Config holds every recognized configuration key from spec §6.
type Config struct {
	DaemonWorkers        int
	KubernetesNamespace  string
	CephStorageClassName string
	GlobalTaskTimeLimit  int
	UserSpacePodTimeout  int
	IPCPort              string
	UserWebshellImage    string
	UserVNCImage         string
	UserVNCPort          int
	UserVNCWSPort        int
	UserVNCHost          string
	UserVNCTLSSecret     string
	UserspaceName        string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	LogLevel    string
	LogPretty   bool
	MetricsPort string
	NATSURL     string
}

// Load reads configuration from the environment, applying defaults matching
// the original system's development settings.
func Load() Config {
	return Config{
		DaemonWorkers:        getEnvInt("DAEMON_WORKERS", 4),
		KubernetesNamespace:  getEnv("KUBERNETES_NAMESPACE", "cloud-scheduler"),
		CephStorageClassName: getEnv("CEPH_STORAGE_CLASS_NAME", "ceph-rwx"),
		GlobalTaskTimeLimit:  getEnvInt("GLOBAL_TASK_TIME_LIMIT", 3600),
		UserSpacePodTimeout:  getEnvInt("USER_SPACE_POD_TIMEOUT", 1800),
		IPCPort:              getEnv("IPC_PORT", "18861"),
		UserWebshellImage:    getEnv("USER_WEBSHELL_DOCKER_IMAGE", "cloud-scheduler/webshell:latest"),
		UserVNCImage:         getEnv("USER_VNC_DOCKER_IMAGE", "cloud-scheduler/vnc:latest"),
		UserVNCPort:          getEnvInt("USER_VNC_PORT", 5901),
		UserVNCWSPort:        getEnvInt("USER_VNC_WS_PORT", 6901),
		UserVNCHost:          getEnv("USER_VNC_HOST", "vnc.local"),
		UserVNCTLSSecret:     getEnv("USER_VNC_TLS_SECRET", ""),
		UserspaceName:        getEnv("USERSPACE_NAME", "cloud-scheduler-userspace"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "cloud_scheduler"),
		DBPassword: getEnv("DB_PASSWORD", "cloud_scheduler"),
		DBName:     getEnv("DB_NAME", "cloud_scheduler"),
		DBSSLMode:  getEnv("DB_SSL_MODE", "disable"),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogPretty:   getEnv("LOG_PRETTY", "false") == "true",
		MetricsPort: getEnv("METRICS_PORT", "9090"),
		NATSURL:     getEnv("NATS_URL", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
