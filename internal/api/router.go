package api

import (
	"github.com/gin-gonic/gin"

	"github.com/coveworks/memberd/config"
	"github.com/coveworks/memberd/internal/api/handler"
	"github.com/coveworks/memberd/internal/api/middleware"
)

type Router struct {
	signupHandler *handler.SignupHandler
	authHandler   *handler.AuthHandler
	memberHandler *handler.MemberHandler
	accessHandler *handler.AccessHandler
	cfg           *config.Config
}

func NewRouter(
	signupHandler *handler.SignupHandler,
	authHandler *handler.AuthHandler,
	memberHandler *handler.MemberHandler,
	accessHandler *handler.AccessHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		signupHandler: signupHandler,
		authHandler:   authHandler,
		memberHandler: memberHandler,
		accessHandler: accessHandler,
		cfg:           cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	// Signup flow. The plan and account steps take an optional session so an
	// admin can walk someone through a restricted plan.
	engine.POST("/", r.signupHandler.Start)
	signup := engine.Group("")
	signup.Use(middleware.OptionalSession(r.cfg.JWT.Secret))
	{
		signup.GET("/plan/:hash", r.signupHandler.Plans)
		signup.GET("/account/:hash", r.signupHandler.Account)
		signup.POST("/account/:hash", r.signupHandler.CreateAccount)
	}
	engine.GET("/success/:hash", r.signupHandler.Success)

	// Auth.
	engine.POST("/login", r.authHandler.Login)
	engine.POST("/forgot_password", r.authHandler.ForgotPassword)
	engine.GET("/reset_password", r.authHandler.CheckResetToken)
	engine.POST("/reset_password", r.authHandler.ResetPassword)

	logout := engine.Group("")
	logout.Use(middleware.OptionalSession(r.cfg.JWT.Secret))
	logout.GET("/logout", r.authHandler.Logout)

	// Reached from mail links and the processor, no session.
	engine.POST("/unsubscribe/:id", r.memberHandler.Unsubscribe)
	engine.POST("/update", r.memberHandler.Update)

	// Member self-service.
	session := engine.Group("")
	session.Use(middleware.SessionAuth(r.cfg.JWT.Secret))
	{
		session.GET("/my_billing", r.memberHandler.MyBilling)
		session.POST("/pref", r.accessHandler.Pref)
	}

	// Admin views.
	admin := engine.Group("")
	admin.Use(middleware.SessionAuth(r.cfg.JWT.Secret), middleware.AdminOnly())
	{
		admin.GET("/memberlist", r.memberHandler.List)
		admin.GET("/memberlist/total_pages", r.memberHandler.TotalPages)
		admin.GET("/suspended", r.memberHandler.Suspended)
		admin.GET("/leavereasonlist", r.memberHandler.LeaveReasons)
		admin.POST("/member/:id/plan", r.memberHandler.ChangePlan)
	}

	// Partner apps and hardware. The maglock and CSV endpoints carry their
	// own keys; the rest go through the app-id guard.
	engine.GET("/api/maglock/:key", r.accessHandler.Maglock)
	engine.POST("/api/rfidswipe", r.accessHandler.RFIDSwipe)
	engine.GET("/api/membercsv", r.memberHandler.ExportCSV)

	interapp := engine.Group("/api")
	interapp.Use(middleware.InterApp(r.cfg))
	{
		interapp.POST("/signin", r.accessHandler.Signin)
		interapp.POST("/rfid", r.accessHandler.RFIDSignin)
		interapp.POST("/key", r.accessHandler.AssignBadge)
		interapp.GET("/user", r.memberHandler.UserProperties)
		interapp.GET("/suspended", r.memberHandler.SuspendedNames)
		interapp.GET("/usernames", r.memberHandler.Usernames)
		interapp.POST("/validate_token", r.authHandler.ValidateToken)
	}

	return engine
}
