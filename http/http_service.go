package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Marfusios/strike-lightning-bridge/logger"
	"github.com/Marfusios/strike-lightning-bridge/pkg/version"
	"github.com/Marfusios/strike-lightning-bridge/reconciler"
	"github.com/Marfusios/strike-lightning-bridge/registry"
	"github.com/Marfusios/strike-lightning-bridge/service"
)

type HttpService struct {
	svc        *service.Service
	registry   *registry.Registry
	reconciler *reconciler.Reconciler
}

func NewHttpService(svc *service.Service) *HttpService {
	return &HttpService{
		svc:        svc,
		registry:   svc.GetRegistry(),
		reconciler: svc.GetReconciler(),
	}
}

func (httpSvc *HttpService) RegisterSharedRoutes(e *echo.Echo) {
	e.HideBanner = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, values middleware.RequestLoggerValues) error {
			logger.Logger.Info().
				Str("uri", values.URI).
				Int("status", values.Status).
				Str("remote_ip", values.RemoteIP).
				Str("request_id", values.RequestID).
				Msg("handled API request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.GET("/api/info", httpSvc.infoHandler)
	e.GET("/api/health", httpSvc.healthHandler)
	e.GET("/api/tenants", httpSvc.listTenantsHandler)
	e.GET("/api/tenants/:tenantId/invoices", httpSvc.listInvoicesHandler)
	e.GET("/api/tenants/:tenantId/invoices/:requestId", httpSvc.getInvoiceHandler)
	e.GET("/api/tenants/:tenantId/payments", httpSvc.listPaymentsHandler)
	e.GET("/api/tenants/:tenantId/balance", httpSvc.getBalanceHandler)
}

type infoResponse struct {
	Version string `json:"version"`
	Tenants int    `json:"tenants"`
}

func (httpSvc *HttpService) infoHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, &infoResponse{
		Version: version.Tag,
		Tenants: len(httpSvc.registry.TenantIds()),
	})
}

func (httpSvc *HttpService) healthHandler(c echo.Context) error {
	health := httpSvc.reconciler.Health()
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, health)
}

func (httpSvc *HttpService) listTenantsHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, httpSvc.registry.TenantIds())
}

func (httpSvc *HttpService) listInvoicesHandler(c echo.Context) error {
	client, ok := httpSvc.registry.Get(c.Param("tenantId"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown tenant")
	}

	pendingOnly, _ := strconv.ParseBool(c.QueryParam("pending"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	invoices, err := client.ListInvoices(c.Request().Context(), pendingOnly, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, invoices)
}

func (httpSvc *HttpService) getInvoiceHandler(c echo.Context) error {
	client, ok := httpSvc.registry.Get(c.Param("tenantId"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown tenant")
	}

	invoice, err := client.GetInvoice(c.Request().Context(), c.Param("requestId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if invoice == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown invoice")
	}
	return c.JSON(http.StatusOK, invoice)
}

func (httpSvc *HttpService) listPaymentsHandler(c echo.Context) error {
	client, ok := httpSvc.registry.Get(c.Param("tenantId"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown tenant")
	}

	onlyCompleted, _ := strconv.ParseBool(c.QueryParam("completed"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	payments, err := client.Store().GetPayments(c.Request().Context(), onlyCompleted, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, payments)
}

func (httpSvc *HttpService) getBalanceHandler(c echo.Context) error {
	client, ok := httpSvc.registry.Get(c.Param("tenantId"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown tenant")
	}

	balance, err := client.GetBalance(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, balance)
}
