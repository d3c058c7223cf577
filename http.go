package distributor

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/starius/api2"
)

func route(s Service, handler, httpMethod string) api2.Route {
	return api2.Route{
		Method:  httpMethod,
		Path:    fmt.Sprintf("/v1/distributor/%s", strings.ToLower(handler)),
		Handler: api2.Method(&s, handler),
		Transport: &api2.JsonTransport{
			Errors: map[string]error{
				"Error": Error{},
			},
		},
	}
}

func GetRoutes(s Service) []api2.Route {
	return []api2.Route{
		route(s, "InsertEntitlement", http.MethodPost),
		route(s, "BatchInsertEntitlements", http.MethodPost),
		route(s, "UpdateEntitlement", http.MethodPost),
		route(s, "DeleteEntitlement", http.MethodPost),
		route(s, "Entitlement", http.MethodGet),
		route(s, "ClaimImmediate", http.MethodPost),
		route(s, "Lockup", http.MethodPost),
		route(s, "ClaimLockup", http.MethodPost),
		route(s, "Enroll", http.MethodPost),
		route(s, "UpdatePeriod", http.MethodPost),
		route(s, "UpdateClaimRatio", http.MethodPost),
		route(s, "IncreaseAmount", http.MethodPost),
		route(s, "Claim", http.MethodPost),
		route(s, "Progress", http.MethodGet),
		route(s, "CloseSale", http.MethodPost),
	}
}
