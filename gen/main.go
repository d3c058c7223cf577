package main

import (
	"github.com/starius/api2"
	"gitlab.com/tokenport/distributor"
)

func main() {
	api2.GenerateClient(distributor.GetRoutes)
	api2.GenerateOpenApiSpec(&api2.TypesGenConfig{
		OutDir: "./openapi",
		Routes: []interface{}{distributor.GetRoutes},
	})
}
