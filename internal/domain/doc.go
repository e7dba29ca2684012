// Package domain defines the core relay types and interfaces.
//
// Messages, group references and the connection contract live here so the relay engine
// and the transport adapters can share them without importing each other.
// Beyond small accessors there is no behaviour here.
package domain
