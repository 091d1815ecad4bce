//go:build linux

package hostnet

import (
	"fmt"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
)

const tablePrefix = "virtualization-mcp_nat_"

// nftablesMasquerade NATs a host-only interface's subnet out through the
// host's default route: one nftables table per interface holding a
// postrouting masquerade rule plus a two-direction forward-accept pair,
// adapted from the teacher's sandbox-egress NAT rule builder.
type nftablesMasquerade struct {
	iface string
	conn  *nftables.Conn
	table *nftables.Table
}

// NewMasquerade returns the Linux nftables-backed Masquerade for iface.
func NewMasquerade(iface string) Masquerade {
	return &nftablesMasquerade{iface: iface}
}

func (m *nftablesMasquerade) Setup() error {
	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("failed to open nftables connection: %w", err)
	}
	m.conn = conn

	m.table = conn.AddTable(&nftables.Table{
		Family: nftables.TableFamilyIPv4,
		Name:   tablePrefix + m.iface,
	})

	postChain := conn.AddChain(&nftables.Chain{
		Name:     "postrouting",
		Table:    m.table,
		Type:     nftables.ChainTypeNAT,
		Hooknum:  nftables.ChainHookPostrouting,
		Priority: nftables.ChainPriorityNATSource,
	})

	fwdChain := conn.AddChain(&nftables.Chain{
		Name:     "forward",
		Table:    m.table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookForward,
		Priority: nftables.ChainPriorityFilter,
	})

	conn.AddRule(&nftables.Rule{
		Table: m.table,
		Chain: postChain,
		Exprs: []expr.Any{
			&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpNeq, Register: 1, Data: ifname(m.iface)},
			&expr.Meta{Key: expr.MetaKeyIIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifname(m.iface)},
			&expr.Masq{},
		},
	})

	conn.AddRule(&nftables.Rule{
		Table: m.table,
		Chain: fwdChain,
		Exprs: []expr.Any{
			&expr.Meta{Key: expr.MetaKeyIIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifname(m.iface)},
			&expr.Verdict{Kind: expr.VerdictAccept},
		},
	})

	conn.AddRule(&nftables.Rule{
		Table: m.table,
		Chain: fwdChain,
		Exprs: []expr.Any{
			&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifname(m.iface)},
			&expr.Verdict{Kind: expr.VerdictAccept},
		},
	})

	if err := conn.Flush(); err != nil {
		return fmt.Errorf("failed to apply NAT rules: %w", err)
	}
	return nil
}

func (m *nftablesMasquerade) Cleanup() error {
	if m.conn == nil {
		conn, err := nftables.New()
		if err != nil {
			return err
		}
		m.conn = conn
	}

	tables, err := m.conn.ListTables()
	if err != nil {
		return err
	}

	name := tablePrefix + m.iface
	for _, t := range tables {
		if t.Name == name && t.Family == nftables.TableFamilyIPv4 {
			m.conn.DelTable(t)
			break
		}
	}
	return m.conn.Flush()
}

func ifname(n string) []byte {
	b := make([]byte, 16)
	copy(b, n)
	return b
}

// Supported reports whether this host can apply nftables masquerade rules.
func Supported() bool { return true }
