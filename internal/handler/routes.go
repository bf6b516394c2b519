package handler

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zeromicro/go-zero/rest"
)

func RegisterHandlers(server *rest.Server, svc PaymentService) {
	server.AddRoutes([]rest.Route{
		{Method: http.MethodPost, Path: "/v1/pay/build", Handler: BuildHandler(svc)},
		{Method: http.MethodPost, Path: "/v1/pay/submit", Handler: SubmitHandler(svc)},
		{Method: http.MethodPost, Path: "/v1/pay/verify", Handler: VerifyHandler(svc)},
		{Method: http.MethodGet, Path: "/metrics", Handler: promhttp.Handler().ServeHTTP},
	})
}
