package db

import (
	"time"

	"github.com/rabbyhub/desktop-ipc/pkg/ipc"
)

// Settings keys.
const (
	SettingDesktopAppState = "desktop_app_state"
	SettingProxyConf       = "proxy_conf"
)

// DappRow represents a row in the dapps table.
type DappRow struct {
	Origin        string    `json:"origin"`
	Alias         string    `json:"alias"`
	FaviconURL    string    `json:"favicon_url"`
	FaviconBase64 string    `json:"favicon_base64"`
	Created       time.Time `json:"created"`
	Modified      time.Time `json:"modified"`
}

// Dapp converts the row to its wire form.
func (r DappRow) Dapp() ipc.Dapp {
	return ipc.Dapp{
		Origin:        r.Origin,
		Alias:         r.Alias,
		FaviconURL:    r.FaviconURL,
		FaviconBase64: r.FaviconBase64,
	}
}

// OrderRow represents a row in the dapp_order table.
type OrderRow struct {
	Origin   string `json:"origin"`
	Pinned   bool   `json:"pinned"`
	Position int    `json:"position"`
}

// orderRows flattens an order into rows, pinned first.
func orderRows(order ipc.DappsOrder) []OrderRow {
	rows := make([]OrderRow, 0, len(order.PinnedList)+len(order.UnpinnedList))
	for i, o := range order.PinnedList {
		rows = append(rows, OrderRow{Origin: o, Pinned: true, Position: i})
	}
	for i, o := range order.UnpinnedList {
		rows = append(rows, OrderRow{Origin: o, Pinned: false, Position: i})
	}
	return rows
}

// orderFromRows rebuilds an order from rows sorted by (pinned desc, position).
// An origin listed twice keeps its first row.
func orderFromRows(rows []OrderRow) ipc.DappsOrder {
	order := ipc.DappsOrder{PinnedList: []string{}, UnpinnedList: []string{}}
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		if seen[r.Origin] {
			continue
		}
		seen[r.Origin] = true
		if r.Pinned {
			order.PinnedList = append(order.PinnedList, r.Origin)
		} else {
			order.UnpinnedList = append(order.UnpinnedList, r.Origin)
		}
	}
	return order
}
