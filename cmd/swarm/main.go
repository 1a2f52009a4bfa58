// Command swarm orchestrates a fleet of isolated workers executing a
// level-partitioned task graph against a git repository.
package main

import (
	"os"
)

func main() {
	os.Exit(Execute())
}
