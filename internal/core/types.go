// Package core exposes the transactional service API on top of the domain
// schema: database registration, node and edge CRUD with type deduction,
// allocation runs, and conversion of conventional process data.
package core

import "lcacore/pkg/domain"

type (
	Database        = domain.Database
	Process         = domain.Process
	Function        = domain.Function
	Exchange        = domain.Exchange
	Property        = domain.Property
	Result          = domain.Result
	RulesEngine     = domain.RulesEngine
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)
