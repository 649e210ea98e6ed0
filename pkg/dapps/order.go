package dapps

import "github.com/rabbyhub/desktop-ipc/pkg/ipc"

// normalizeOrder turns a stored order into a partition of the known origins:
// unknown origins and duplicates are dropped (pinned wins over unpinned), and
// known origins missing from both lists are appended to unpinned in dapp order.
func normalizeOrder(dapps []ipc.Dapp, order ipc.DappsOrder) ipc.DappsOrder {
	known := make(map[string]bool, len(dapps))
	for _, d := range dapps {
		known[d.Origin] = true
	}

	placed := make(map[string]bool, len(dapps))
	pinned := make([]string, 0, len(order.PinnedList))
	for _, o := range order.PinnedList {
		if known[o] && !placed[o] {
			placed[o] = true
			pinned = append(pinned, o)
		}
	}
	unpinned := make([]string, 0, len(dapps))
	for _, o := range order.UnpinnedList {
		if known[o] && !placed[o] {
			placed[o] = true
			unpinned = append(unpinned, o)
		}
	}
	for _, d := range dapps {
		if !placed[d.Origin] {
			placed[d.Origin] = true
			unpinned = append(unpinned, d.Origin)
		}
	}
	return ipc.DappsOrder{PinnedList: pinned, UnpinnedList: unpinned}
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func contains(list []string, s string) bool {
	return indexOf(list, s) >= 0
}

// without returns list minus every element of drop, preserving order.
func without(list []string, drop map[string]bool) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if !drop[v] {
			out = append(out, v)
		}
	}
	return out
}

func insertAt(list []string, i int, s string) []string {
	if i < 0 || i >= len(list) {
		return append(list, s)
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = s
	return list
}

func toSet(list []string) map[string]bool {
	m := make(map[string]bool, len(list))
	for _, v := range list {
		m[v] = true
	}
	return m
}
