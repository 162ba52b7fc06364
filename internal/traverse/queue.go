package traverse

import "container/heap"

type travItem struct {
	node     *Node
	loadOnly bool
}

// travQueue orders pending traversal steps by node priority so the tiles
// nearest the camera resolve first when per-tick budgets run out.
type travQueue []travItem

func (q travQueue) Len() int           { return len(q) }
func (q travQueue) Less(i, j int) bool { return q[i].node.priority > q[j].node.priority }
func (q travQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *travQueue) Push(x any)        { *q = append(*q, x.(travItem)) }
func (q *travQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

func (q *travQueue) push(n *Node, loadOnly bool) {
	heap.Push(q, travItem{node: n, loadOnly: loadOnly})
}

func (q *travQueue) pop() travItem {
	return heap.Pop(q).(travItem)
}
