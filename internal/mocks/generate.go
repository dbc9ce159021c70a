package mocks

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name Repository --dir ../domain/dispatch --output domain/dispatch --outpkg dispatchmock --filename repository_mock.go
//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name Repository --dir ../domain/deadletter --output domain/deadletter --outpkg deadlettermock --filename repository_mock.go
//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name Queue --dir ../domain/workqueue --output domain/workqueue --outpkg workqueuemock --filename queue_mock.go
