package api

import (
	"github.com/gin-gonic/gin"

	"mockview/internal/api/middleware"
)

// Handlers 汇总需要注册的处理器。
type Handlers struct {
	Auth      *AuthHandler
	Resumes   *ResumeHandler
	Interview *InterviewHandler
	Shares    *ShareHandler
	Exports   *ExportHandler
	Ws        *WsHandler
}

// RegisterRoutes 注册业务路由。除 ws（消息内鉴权）与公开分享外都需要 Bearer 令牌。
func RegisterRoutes(router *gin.Engine, h Handlers, validator middleware.TokenValidator) {
	authMiddleware := middleware.AuthMiddleware(validator)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", h.Ws.HandleConnection)
		v1.GET("/public/interviews/:id/report", h.Shares.PublicReport)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/refresh", h.Auth.Refresh)
			authGroup.POST("/logout", authMiddleware, h.Auth.Logout)
		}

		resumeGroup := v1.Group("/resumes")
		resumeGroup.Use(authMiddleware)
		{
			resumeGroup.POST("", h.Resumes.ImportResume)
			resumeGroup.GET("", h.Resumes.ListResumes)
		}

		interviewGroup := v1.Group("/interviews")
		interviewGroup.Use(authMiddleware)
		{
			interviewGroup.POST("", h.Interview.CreateInterview)
			interviewGroup.GET("", h.Interview.ListInterviews)
			interviewGroup.GET("/:id", h.Interview.GetInterview)
			interviewGroup.GET("/:id/current", h.Interview.CurrentQuestion)
			interviewGroup.GET("/:id/questions", h.Interview.ListQuestions)
			interviewGroup.GET("/:id/questions/:qid", h.Interview.GetQuestion)
			interviewGroup.POST("/:id/questions/next", h.Interview.NextQuestion)
			interviewGroup.POST("/:id/answers", h.Interview.SubmitAnswer)
			interviewGroup.POST("/:id/complete", h.Interview.CompleteInterview)
			interviewGroup.GET("/:id/report", h.Interview.CompleteInterview)
			interviewGroup.POST("/:id/report/export", h.Exports.ExportReport)
			interviewGroup.GET("/:id/report/download-link", h.Exports.DownloadLink)
			interviewGroup.POST("/:id/share", h.Shares.IssueShare)
			interviewGroup.DELETE("/:id/share", h.Shares.RevokeShare)
			interviewGroup.GET("/:id/share", h.Shares.ShareStatus)
		}
	}
}
