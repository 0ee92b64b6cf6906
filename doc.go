// Package posclient is the session and transaction orchestration layer for a
// point-of-sale terminal talking to a remote POS/ERP backend. The backend owns
// all money math, stock truth and persistence; this package keeps the session
// authenticated under concurrent traffic and drives the store-scoped cart and
// checkout workflow without corrupting state when operations race.
//
// The http subpackage implements the Backend port over HTTP with transparent
// token refresh; the redisstore subpackage shares credentials and the active
// store across terminal processes.
package posclient
