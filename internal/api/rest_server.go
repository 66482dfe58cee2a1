// Package api — административный REST API сервиса заявок.
// Доступ защищён JWT; мутирующие операции требуют флага администратора.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/mmo-claims/internal/claim"
	"github.com/annel0/mmo-claims/internal/logging"
	"github.com/annel0/mmo-claims/internal/middleware"
	"github.com/annel0/mmo-claims/internal/storage"
	"github.com/annel0/mmo-claims/internal/vec"
)

// RestServer представляет REST API сервер
type RestServer struct {
	router           *gin.Engine
	ds               *storage.DataStore
	resolver         *claim.PermissionResolver
	port             string
	metrics          *ServerMetrics
	outboundWebhooks *OutboundWebhookManager
	httpServer       *http.Server
}

// Config содержит конфигурацию REST сервера
type Config struct {
	Port      string
	DataStore *storage.DataStore
	Resolver  *claim.PermissionResolver
	ServerID  string
}

// GenericResponse — стандартный конверт ответа
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8090"
	}
	if config.ServerID == "" {
		config.ServerID = "claims_server_01"
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	// === Observability middleware ===
	loggerMw := middleware.NewRequestLogger()
	router.Use(loggerMw.Handler())

	router.Use(otelgin.Middleware("claims_api"))

	promMw := middleware.NewPrometheusMiddleware("claims_api")
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	server := &RestServer{
		router:           router,
		ds:               config.DataStore,
		resolver:         config.Resolver,
		port:             config.Port,
		metrics:          NewServerMetrics(),
		outboundWebhooks: NewOutboundWebhookManager(config.ServerID, "production"),
	}

	server.setupRoutes()
	return server
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	api := rs.router.Group("/api")

	// Защищённые эндпоинты (требуют JWT)
	protected := api.Group("/")
	protected.Use(rs.jwtMiddleware())
	{
		protected.GET("/stats", rs.handleStats)
		protected.GET("/worlds/:world/claims", rs.handleListClaims)
		protected.GET("/claims/:id", rs.handleGetClaim)
		protected.GET("/claim_at", rs.handleClaimAt)
		protected.GET("/players/:id/blocks", rs.handlePlayerBlocks)
		protected.POST("/resolve", rs.handleResolve)

		// Административные эндпоинты
		admin := protected.Group("/admin")
		admin.Use(rs.adminMiddleware())
		{
			admin.POST("/claims", rs.handleCreateClaim)
			admin.POST("/claims/:id/subdivisions", rs.handleCreateSubdivision)
			admin.DELETE("/claims/:id", rs.handleDeleteClaim)
			admin.PUT("/claims/:id/bounds", rs.handleResizeClaim)
			admin.PUT("/claims/:id/owner", rs.handleTransferClaim)
			admin.POST("/claims/:id/trust", rs.handleGrantTrust)
			admin.DELETE("/claims/:id/trust/:entry", rs.handleRevokeTrust)
			admin.PUT("/groups/:group/bonus", rs.handleSetGroupBonus)

			// Исходящие вебхуки событий заявок
			admin.GET("/webhooks", rs.handleGetOutboundWebhooks)
			admin.POST("/webhooks", rs.handleCreateOutboundWebhook)
			admin.DELETE("/webhooks/:id", rs.handleDeleteOutboundWebhook)
		}
	}

	// Health check (без аутентификации)
	rs.router.GET("/health", rs.handleHealth)
}

// Start запускает HTTP-сервер в отдельной горутине
func (rs *RestServer) Start() error {
	rs.httpServer = &http.Server{
		Addr:    rs.port,
		Handler: rs.router,
	}

	go func() {
		if err := rs.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("❌ Ошибка REST API сервера: %v", err)
		}
	}()

	logging.Info("🌐 REST API запущен на %s", rs.port)
	return nil
}

// Stop останавливает HTTP-сервер
func (rs *RestServer) Stop() error {
	if rs.httpServer == nil {
		return nil
	}
	rs.outboundWebhooks.Stop()
	return rs.httpServer.Close()
}

// WebhookManager возвращает менеджер исходящих вебхуков для моста событий
func (rs *RestServer) WebhookManager() *OutboundWebhookManager {
	return rs.outboundWebhooks
}

// === Представления ===

// ClaimView — сериализация заявки для API
type ClaimView struct {
	ID           int64       `json:"id"`
	WorldID      string      `json:"world_id"`
	OwnerID      string      `json:"owner_id,omitempty"`
	AdminClaim   bool        `json:"admin_claim"`
	Lesser       [3]int      `json:"lesser"`
	Greater      [3]int      `json:"greater"`
	Area         int         `json:"area"`
	ParentID     *int64      `json:"parent_id,omitempty"`
	Subdivisions []int64     `json:"subdivisions,omitempty"`
	Trust        []TrustView `json:"trust,omitempty"`
}

// TrustView — записи одного уровня доверия
type TrustView struct {
	Level   string   `json:"level"`
	Entries []string `json:"entries"`
}

func claimView(c *claim.Claim) ClaimView {
	bounds := c.Bounds()
	view := ClaimView{
		ID:         c.ID,
		WorldID:    c.WorldID,
		OwnerID:    c.OwnerID(),
		AdminClaim: c.IsAdminClaim(),
		Lesser:     [3]int{bounds.Lesser.X, bounds.Lesser.Y, bounds.Lesser.Z},
		Greater:    [3]int{bounds.Greater.X, bounds.Greater.Y, bounds.Greater.Z},
		Area:       c.Area(),
	}
	if p := c.Parent(); p != nil {
		view.ParentID = &p.ID
	}
	for _, child := range c.Children() {
		view.Subdivisions = append(view.Subdivisions, child.ID)
	}
	for _, lvl := range claim.AllTrustLevels {
		entries := c.TrustEntries(lvl)
		if len(entries) > 0 {
			view.Trust = append(view.Trust, TrustView{Level: lvl.String(), Entries: entries})
		}
	}
	return view
}

// === Обработчики чтения ===

func (rs *RestServer) handleListClaims(c *gin.Context) {
	worldID := c.Param("world")
	mgr := rs.ds.GetClaimWorldManager(worldID)
	if mgr == nil {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: "Неизвестный мир"})
		return
	}

	claims := mgr.TopLevelClaims()
	views := make([]ClaimView, 0, len(claims))
	for _, cl := range claims {
		views = append(views, claimView(cl))
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: views})
}

func (rs *RestServer) handleGetClaim(c *gin.Context) {
	cl, ok := rs.claimFromPath(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: claimView(cl)})
}

func (rs *RestServer) handleClaimAt(c *gin.Context) {
	worldID := c.Query("world")
	if worldID == "" {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Параметр world обязателен"})
		return
	}
	pos, ok := queryPos(c)
	if !ok {
		return
	}
	ignoreHeight := c.DefaultQuery("ignore_height", "false") == "true"

	cl := rs.ds.GetClaimAt(worldID, pos, ignoreHeight, nil)
	if cl == nil {
		c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Дикая территория"})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: claimView(cl)})
}

func (rs *RestServer) handlePlayerBlocks(c *gin.Context) {
	playerID := c.Param("id")
	pd, err := rs.ds.GetOrCreatePlayerData(c.Request.Context(), playerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	groups := c.QueryArray("group")
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: gin.H{
		"player_id":  playerID,
		"accrued":    pd.AccruedBlocks(),
		"bonus":      pd.BonusBlocks(),
		"group":      rs.ds.GroupBonusBlocks(groups),
		"remaining":  rs.ds.RemainingBlocks(pd, groups),
		"pvp_immune": pd.PvPImmune(),
	}})
}

// ResolveRequest — запрос проверки прав
type ResolveRequest struct {
	WorldID      string   `json:"world_id" binding:"required"`
	X            int      `json:"x"`
	Y            int      `json:"y"`
	Z            int      `json:"z"`
	ActorID      string   `json:"actor_id" binding:"required"`
	Groups       []string `json:"groups"`
	Action       string   `json:"action" binding:"required"`
	IgnoreHeight bool     `json:"ignore_height"`
}

func (rs *RestServer) handleResolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	action, err := claim.ParseAction(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	pos := vec.Vec3{X: req.X, Y: req.Y, Z: req.Z}
	actor := claim.Actor{ID: req.ActorID, Groups: req.Groups}

	cl := rs.ds.GetClaimAt(req.WorldID, pos, req.IgnoreHeight, nil)
	if cl == nil {
		mode := rs.ds.WorldMode(req.WorldID)
		// Игрок без единой заявки ставит стартовый блок
		bootstrap := !rs.ds.PlayerHasClaims(req.ActorID)
		err = rs.resolver.ResolveWilderness(mode, actor, bootstrap)
	} else {
		err = rs.resolver.Resolve(cl, actor, action)
	}

	result := gin.H{"allowed": err == nil}
	if cl != nil {
		result["claim_id"] = cl.ID
	}
	var denied *claim.DeniedError
	if errors.As(err, &denied) {
		result["reason"] = denied.Reason
		if denied.MissingTrust != nil {
			result["required_trust"] = denied.MissingTrust.String()
		}
	} else if err != nil {
		result["reason"] = err.Error()
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: result})
}

func (rs *RestServer) handleStats(c *gin.Context) {
	stats := rs.ds.GetStats()

	memoryMB, _ := rs.metrics.GetMemoryUsage()
	cpuPercent, _ := rs.metrics.GetCPUUsage()

	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: gin.H{
		"claims":         stats,
		"uptime":         rs.metrics.GetUptime(),
		"memory_mb":      fmt.Sprintf("%.1f", memoryMB),
		"memory_details": rs.metrics.GetDetailedMemoryStats(),
		"cpu_percent":    fmt.Sprintf("%.1f", cpuPercent),
		"webhooks_count": rs.outboundWebhooks.Count(),
	}})
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	memoryMB, _ := rs.metrics.GetMemoryUsage()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime":    rs.metrics.GetUptime(),
		"memory_mb": fmt.Sprintf("%.1f", memoryMB),
		"timestamp": time.Now().Unix(),
	})
}

// === Обработчики мутаций ===

// ClaimRequest — создание или изменение границ заявки
type ClaimRequest struct {
	WorldID string `json:"world_id"`
	OwnerID string `json:"owner_id"`
	A       [3]int `json:"a" binding:"required"`
	B       [3]int `json:"b" binding:"required"`
}

func (rs *RestServer) handleCreateClaim(c *gin.Context) {
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	if req.WorldID == "" {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "world_id обязателен"})
		return
	}

	cl, err := rs.ds.CreateClaim(c.Request.Context(), req.WorldID, req.OwnerID,
		vec.Vec3{X: req.A[0], Y: req.A[1], Z: req.A[2]},
		vec.Vec3{X: req.B[0], Y: req.B[1], Z: req.B[2]})
	if err != nil {
		rs.writeClaimError(c, err)
		return
	}
	c.JSON(http.StatusCreated, GenericResponse{Success: true, Data: claimView(cl)})
}

func (rs *RestServer) handleCreateSubdivision(c *gin.Context) {
	parent, ok := rs.claimFromPath(c)
	if !ok {
		return
	}

	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	sub, err := rs.ds.CreateSubdivision(c.Request.Context(), parent,
		vec.Vec3{X: req.A[0], Y: req.A[1], Z: req.A[2]},
		vec.Vec3{X: req.B[0], Y: req.B[1], Z: req.B[2]})
	if err != nil {
		rs.writeClaimError(c, err)
		return
	}
	c.JSON(http.StatusCreated, GenericResponse{Success: true, Data: claimView(sub)})
}

func (rs *RestServer) handleDeleteClaim(c *gin.Context) {
	cl, ok := rs.claimFromPath(c)
	if !ok {
		return
	}
	cascade := c.DefaultQuery("cascade", "false") == "true"
	releaseBlocks := c.DefaultQuery("release_blocks", "false") == "true"

	if err := rs.ds.DeleteClaim(c.Request.Context(), cl, cascade, releaseBlocks); err != nil {
		rs.writeClaimError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Заявка удалена"})
}

func (rs *RestServer) handleResizeClaim(c *gin.Context) {
	cl, ok := rs.claimFromPath(c)
	if !ok {
		return
	}

	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	err := rs.ds.ResizeClaim(c.Request.Context(), cl,
		vec.Vec3{X: req.A[0], Y: req.A[1], Z: req.A[2]},
		vec.Vec3{X: req.B[0], Y: req.B[1], Z: req.B[2]})
	if err != nil {
		rs.writeClaimError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: claimView(cl)})
}

// TransferRequest — передача заявки новому владельцу
type TransferRequest struct {
	NewOwnerID string `json:"new_owner_id"`
}

func (rs *RestServer) handleTransferClaim(c *gin.Context) {
	cl, ok := rs.claimFromPath(c)
	if !ok {
		return
	}

	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	if err := rs.ds.TransferClaimOwner(c.Request.Context(), cl, req.NewOwnerID); err != nil {
		rs.writeClaimError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: claimView(cl)})
}

// TrustRequest — выдача доверия
type TrustRequest struct {
	Entry string `json:"entry" binding:"required"`
	Level string `json:"level" binding:"required"`
}

func (rs *RestServer) handleGrantTrust(c *gin.Context) {
	cl, ok := rs.claimFromPath(c)
	if !ok {
		return
	}

	var req TrustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	level, err := claim.ParseTrustLevel(req.Level)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	cl.Grant(req.Entry, level)
	if err := rs.ds.SaveClaimTrust(c.Request.Context(), cl); err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: claimView(cl)})
}

func (rs *RestServer) handleRevokeTrust(c *gin.Context) {
	cl, ok := rs.claimFromPath(c)
	if !ok {
		return
	}

	cl.Revoke(c.Param("entry"))
	if err := rs.ds.SaveClaimTrust(c.Request.Context(), cl); err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: claimView(cl)})
}

// GroupBonusRequest — установка группового бонуса
type GroupBonusRequest struct {
	Blocks int `json:"blocks"`
}

func (rs *RestServer) handleSetGroupBonus(c *gin.Context) {
	var req GroupBonusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	group := c.Param("group")
	if err := rs.ds.SetGroupBonusBlocks(c.Request.Context(), group, req.Blocks); err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Бонус группы обновлён"})
}

// === Вспомогательные ===

func (rs *RestServer) claimFromPath(c *gin.Context) (*claim.Claim, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Некорректный идентификатор заявки"})
		return nil, false
	}

	cl, found := rs.ds.FindClaimByID(c.Query("world"), id)
	if !found {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: "Заявка не найдена"})
		return nil, false
	}
	return cl, true
}

func queryPos(c *gin.Context) (vec.Vec3, bool) {
	var pos vec.Vec3
	var err error
	if pos.X, err = strconv.Atoi(c.Query("x")); err == nil {
		if pos.Y, err = strconv.Atoi(c.DefaultQuery("y", "0")); err == nil {
			pos.Z, err = strconv.Atoi(c.Query("z"))
		}
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Некорректные координаты"})
		return vec.Vec3{}, false
	}
	return pos, true
}

// writeClaimError переводит типизированные ошибки ядра в HTTP-статусы
func (rs *RestServer) writeClaimError(c *gin.Context, err error) {
	var overlap *claim.OverlapError
	var escape *claim.EscapeError
	var hasChildren *claim.HasChildrenError

	switch {
	case errors.As(err, &overlap), errors.As(err, &escape):
		c.JSON(http.StatusConflict, GenericResponse{Success: false, Message: err.Error()})
	case errors.As(err, &hasChildren):
		c.JSON(http.StatusConflict, GenericResponse{Success: false, Message: err.Error()})
	case errors.Is(err, claim.ErrClaimNotFound):
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: err.Error()})
	case errors.Is(err, claim.ErrNoTransferSubdivision), errors.Is(err, claim.ErrSubdivisionDepth):
		c.JSON(http.StatusUnprocessableEntity, GenericResponse{Success: false, Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
	}
}
