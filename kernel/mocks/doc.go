package mocks

//go:generate mockgen -destination mocks.go -package mocks github.com/openfimg/fimg/kernel Device,Queue
