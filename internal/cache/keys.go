package cache

import "fmt"

// SearchKey identifies a cached repo search.
func SearchKey(source, repo, query string) string {
	return fmt.Sprintf("search:%s:%s:%s", source, repo, query)
}

// ThreadKey identifies cached thread history.
func ThreadKey(stream, topic string) string {
	return fmt.Sprintf("thread:%s:%s", stream, topic)
}
