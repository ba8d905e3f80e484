// Package web3 connects the ledger to EVM chains. Chain endpoints are declared
// in a YAML file and the latest block number of the selected chain serves as
// the ledger's block clock.
package web3
