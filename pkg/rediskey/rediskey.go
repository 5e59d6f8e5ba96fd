package rediskey

import "fmt"

const (
	SchedulerPrefix = "fulfillment:scheduler"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildSchedulerLockKey returns "fulfillment:scheduler:{name}:lock"
func BuildSchedulerLockKey(name string) string {
	return NamespaceKey(SchedulerPrefix, name+":lock")
}
