// Command pagedump prints a human-readable, breadth-first dump of a
// pagedb B+-tree index file's page structure. It is a thin external
// consumer of the buffer pool and B+-tree public API, not a shell over
// the storage engine's internals — the spec explicitly excludes an
// interactive CLI for the core. Grounded in
// ShubhamNegi4-DaemonDB/bplustree/inspect.go's InspectIndexFile, which
// walks a B+-tree index file page by page and prints keys/children.
package main

import (
	"fmt"
	"os"

	"pagedb/pkg/buffer"
	"pagedb/pkg/storage/disk"
	"pagedb/pkg/storage/page"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <db-file> <header-page-id>\n", os.Args[0])
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2]); err != nil {
		fmt.Fprintln(os.Stderr, "pagedump:", err)
		os.Exit(1)
	}
}

func run(dbPath, headerArg string) error {
	var headerID int64
	if _, err := fmt.Sscanf(headerArg, "%d", &headerID); err != nil {
		return fmt.Errorf("parse header page id: %w", err)
	}

	dm, err := disk.NewFileManager(dbPath)
	if err != nil {
		return err
	}
	defer dm.Close()

	sched := disk.NewScheduler(dm)
	defer sched.Stop()

	pool := buffer.NewManager(dm, sched, 64, 2)
	return dumpTree(pool, page.ID(headerID))
}

func dumpTree(pool *buffer.Manager, headerID page.ID) error {
	header, ok := pool.FetchPageBasic(headerID)
	if !ok {
		return fmt.Errorf("cannot read header page %d", headerID)
	}
	rootID := header.Header().RootID()
	header.Drop()

	fmt.Printf("header page %d: root = %d\n", headerID, rootID)
	if rootID == page.InvalidID {
		fmt.Println("  (empty tree)")
		return nil
	}

	queue := []page.ID{rootID}
	level := 0
	for len(queue) > 0 {
		fmt.Printf("\nlevel %d:\n", level)
		var next []page.ID
		for _, id := range queue {
			g, ok := pool.FetchPageBasic(id)
			if !ok {
				fmt.Printf("  [page %d] read error\n", id)
				continue
			}
			node := g.Node()
			if node.IsLeaf() {
				fmt.Printf("  [page %d] LEAF size=%d next=%d keys=", id, node.Size(), node.NextLeafID())
				for i := int32(0); i < node.Size(); i++ {
					fmt.Printf("%d ", node.KeyAt(i))
				}
				fmt.Println()
			} else {
				fmt.Printf("  [page %d] INTERNAL size=%d children=", id, node.Size())
				for i := int32(0); i < node.Size(); i++ {
					child := node.ChildAt(i)
					fmt.Printf("%d ", child)
					next = append(next, child)
				}
				fmt.Println()
			}
			g.Drop()
		}
		queue = next
		level++
	}
	return nil
}
