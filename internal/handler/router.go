package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/anzac2cdo/roster-api/internal/middleware"
	"github.com/anzac2cdo/roster-api/internal/models"
)

// Routes bundles the handlers and guards mounted under the API prefix.
// Exports and Migrations are optional and skipped when nil.
type Routes struct {
	JWT   gin.HandlerFunc
	Authz middleware.Authorizer

	Auth       *AuthHandler
	Roles      *RoleHandler
	Personnel  *PersonnelHandler
	Schools    *SchoolHandler
	Events     *EventHandler
	Exports    *ExportHandler
	Migrations *MigrationHandler
}

// Register mounts the API. Role checks that the services already perform are
// not repeated here.
func (rt Routes) Register(api *gin.RouterGroup) {
	auth := api.Group("/auth")
	auth.POST("/login", rt.Auth.Login)
	auth.POST("/refresh", rt.Auth.Refresh)

	secured := api.Group("")
	secured.Use(rt.JWT)

	secured.POST("/auth/logout", rt.Auth.Logout)
	secured.POST("/auth/change-password", rt.Auth.ChangePassword)
	secured.GET("/auth/me", middleware.RequireAuth(rt.Authz), rt.Auth.Me)

	secured.GET("/roles", middleware.RequireRole(rt.Authz, models.RoleMember), rt.Roles.List)

	personnel := secured.Group("/personnel")
	personnel.GET("", rt.Personnel.List)
	personnel.POST("", rt.Personnel.Create)
	personnel.GET("/:id", rt.Personnel.Get)
	personnel.POST("/:id/archive", rt.Personnel.Archive)
	personnel.POST("/:id/promote", rt.Personnel.Promote)
	personnel.POST("/:id/system-access", rt.Personnel.GrantSystemAccess)
	personnel.DELETE("/:id/system-access", rt.Personnel.RevokeSystemAccess)
	personnel.GET("/:id/roles", rt.Roles.UserRoles)
	personnel.PUT("/:id/roles", rt.Roles.UpdateUserRoles)
	personnel.GET("/:id/schools", middleware.SelfOrRole(rt.Authz, "id", models.RoleAdministrator), rt.Personnel.Schools)
	personnel.GET("/:id/qualifications", rt.Personnel.Qualifications)
	personnel.POST("/:id/qualifications", rt.Personnel.AwardQualification)
	personnel.DELETE("/:id/qualifications/:qualificationId", rt.Personnel.RevokeQualification)

	schools := secured.Group("/schools")
	schools.GET("", rt.Schools.List)
	schools.PUT("/:id", rt.Schools.Update)
	schools.POST("/:id/instructors", rt.Schools.AssignInstructor)
	schools.DELETE("/:id/instructors/:personnelId", rt.Schools.RemoveInstructor)

	secured.GET("/qualifications", rt.Schools.Qualifications)

	events := secured.Group("/events")
	events.GET("", rt.Events.Week)
	events.POST("", rt.Events.Create)
	events.GET("/:id", rt.Events.Get)
	events.PUT("/:id", rt.Events.Update)
	events.DELETE("/:id", rt.Events.Delete)
	events.POST("/:id/instructors", rt.Events.AddInstructor)
	events.DELETE("/:id/instructors/:personnelId", rt.Events.RemoveInstructor)

	if rt.Exports != nil {
		// Downloads authenticate through the signed token alone.
		api.GET("/exports/download/:token", rt.Exports.Download)
		exports := secured.Group("/exports")
		exports.POST("/roster", rt.Exports.CreateRoster)
		exports.GET("/:id", rt.Exports.Status)
	}

	if rt.Migrations != nil {
		secured.POST("/admin/migrations/:shim", middleware.RequireRole(rt.Authz, models.RoleSuperAdmin), rt.Migrations.Run)
	}
}
