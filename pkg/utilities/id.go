package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewKSUID generates a new globally unique KSUID string. Used for request IDs.
func NewKSUID() string {
	return ksuid.New().String()
}

// NodeIDFromEnv reads SNOWFLAKE_NODE, defaulting to node 1 when unset or invalid.
func NodeIDFromEnv() int64 {
	nodeID, err := strconv.ParseInt(os.Getenv("SNOWFLAKE_NODE"), 10, 64)
	if err != nil || nodeID < 0 || nodeID > 1023 {
		return 1
	}
	return nodeID
}

// NextID returns a snowflake record ID from the process-wide node.
// The node is created once; snowflake guarantees uniqueness per node only
// when a single generator is shared.
func NextID() int64 {
	nodeOnce.Do(func() {
		n, err := snowflake.NewNode(NodeIDFromEnv())
		if err != nil {
			// NodeIDFromEnv already bounds the value, node 1 cannot fail
			n, _ = snowflake.NewNode(1)
		}
		node = n
	})
	return node.Generate().Int64()
}
