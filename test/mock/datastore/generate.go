package mock_datastore

//go:generate -command mockgen go run go.uber.org/mock/mockgen -destination=./mocks.go github.com/quay/cvssd/datastore
//go:generate mockgen Store
