package main

import (
	"errors"
	"net/http"
	"strconv"

	"anno-linker/config"
	"anno-linker/models"
	"anno-linker/providers/annorepo"
	"anno-linker/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// linkingRequest ist der Body von POST und PUT auf /annotations/linking.
// target darf ein einzelner String oder eine Liste sein.
type linkingRequest struct {
	Target  models.Targets `json:"target"`
	Body    models.Bodies  `json:"body"`
	Project string         `json:"project"`
	Creator *models.Agent  `json:"creator"`
}

func (r linkingRequest) toLinkRequest(project string) services.LinkRequest {
	ids := make([]string, 0, len(r.Target))
	for _, t := range r.Target {
		ids = append(ids, t.Identifier())
	}
	if r.Project != "" {
		project = r.Project
	}
	return services.LinkRequest{Project: project, Targets: ids, Body: r.Body, Creator: r.Creator}
}

// respondError bildet Domänenfehler auf HTTP-Status ab.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	var validationErr *services.ValidationError
	var conflictErr *services.ConflictError
	var storeErr *annorepo.StoreError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid linking annotation", "details": validationErr.Details})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":                  err.Error(),
			"conflictingAnnotations": conflictErr.IDs,
			"suggestion":             conflictErr.Suggestion,
		})
	case errors.Is(err, annorepo.ErrMissingToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, annorepo.ErrPreconditionFailed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, annorepo.ErrNotFound), errors.Is(err, services.ErrPlaceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &storeErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "status": storeErr.Status})
	default:
		log.Error("Unexpected error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func setupLinkingRoutes(router *gin.Engine, cfg *config.Config, linking *services.LinkingService, cleanup *services.CleanupService, log *zap.Logger) {
	rg := router.Group("/annotations/linking")
	auth := apiKeyAuthMiddleware(cfg)

	rg.GET("", func(c *gin.Context) {
		target := c.Query("target")
		if target == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "target query parameter is required"})
			return
		}
		links, err := linking.ForTarget(c.Request.Context(), c.Query("project"), target)
		if err != nil {
			respondError(c, log, err)
			return
		}
		if links == nil {
			links = []models.Annotation{}
		}
		c.JSON(http.StatusOK, links)
	})

	rg.POST("", auth, func(c *gin.Context) {
		var req linkingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": []string{err.Error()}})
			return
		}
		res, err := linking.Link(c.Request.Context(), req.toLinkRequest(c.Query("project")))
		if err != nil {
			var conflictErr *services.ConflictError
			if errors.As(err, &conflictErr) {
				linkDecisionsCounter.WithLabelValues("conflict").Inc()
				linkConflictsCounter.Inc()
			}
			respondError(c, log, err)
			return
		}
		linkDecisionsCounter.WithLabelValues(string(res.Decision)).Inc()
		status := http.StatusOK
		if res.Created() {
			status = http.StatusCreated
		}
		c.JSON(status, res.Annotation)
	})

	rg.PUT("/:id", auth, func(c *gin.Context) {
		var req linkingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": []string{err.Error()}})
			return
		}
		updated, err := linking.Update(c.Request.Context(), c.Param("id"), req.toLinkRequest(c.Query("project")))
		if err != nil {
			respondError(c, log, err)
			return
		}
		linkDecisionsCounter.WithLabelValues("update").Inc()
		c.JSON(http.StatusOK, updated)
	})

	rg.DELETE("/:id", auth, func(c *gin.Context) {
		if err := linking.Delete(c.Request.Context(), c.Query("project"), c.Param("id")); err != nil {
			respondError(c, log, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	rg.GET("/cleanup", func(c *gin.Context) {
		analysis, err := cleanup.Analyze(c.Request.Context(), c.Query("project"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, analysis)
	})

	rg.POST("/cleanup", auth, func(c *gin.Context) {
		var req struct {
			DryRun  *bool  `json:"dryRun"`
			Project string `json:"project"`
		}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
				return
			}
		}
		dryRun := req.DryRun == nil || *req.DryRun
		project := req.Project
		if project == "" {
			project = c.Query("project")
		}
		result, err := cleanup.Run(c.Request.Context(), project, dryRun)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
}

func setupGazetteerRoutes(router *gin.Engine, cfg *config.Config, agg *services.Aggregator, log *zap.Logger) {
	rg := router.Group("/gazetteer")
	auth := apiKeyAuthMiddleware(cfg)

	rg.GET("/linking-bulk", func(c *gin.Context) {
		project := c.Query("project")
		if slug := c.Query("slug"); slug != "" {
			place, err := agg.FindBySlug(c.Request.Context(), project, slug)
			if err != nil {
				respondError(c, log, err)
				return
			}
			placesEmittedCounter.Inc()
			c.JSON(http.StatusOK, services.BulkPage{Places: []models.Place{*place}, Count: 1})
			return
		}

		page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
		if err != nil || page < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a non-negative integer"})
			return
		}
		result, err := agg.Page(c.Request.Context(), project, page)
		if err != nil {
			respondError(c, log, err)
			return
		}
		targetFetchFailuresCounter.Add(float64(result.FailedTargets))
		if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
			result = result.Limit(limit)
		}
		placesEmittedCounter.Add(float64(len(result.Places)))
		c.JSON(http.StatusOK, result)
	})

	rg.GET("/places/:slug", func(c *gin.Context) {
		place, err := agg.FindBySlug(c.Request.Context(), c.Query("project"), c.Param("slug"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		placesEmittedCounter.Inc()
		c.JSON(http.StatusOK, place)
	})

	rg.GET("/categories", func(c *gin.Context) {
		categories, err := agg.Categories(c.Request.Context(), c.Query("project"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, categories)
	})

	rg.POST("/invalidate-cache", auth, func(c *gin.Context) {
		if err := agg.Invalidate(c.Request.Context()); err != nil {
			log.Error("Cache invalidation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cache invalidation failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "cache invalidated"})
	})

	rg.GET("/warmup", auth, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"warmed": agg.Warmup(c.Request.Context())})
	})

	rg.GET("/cache-status", func(c *gin.Context) {
		c.JSON(http.StatusOK, agg.Status(c.Request.Context()))
	})
}
