package setup

import (
	"github.com/The127/ioc"
	"github.com/The127/mediatr"
	"github.com/the127/upyard/internal/commands"
	"github.com/the127/upyard/internal/queries"
)

func Mediator(dc *ioc.DependencyCollection) {
	mediator := mediatr.NewMediator()

	mediatr.RegisterHandler(mediator, commands.HandleInitiateUpload)
	mediatr.RegisterHandler(mediator, commands.HandlePutChunk)
	mediatr.RegisterHandler(mediator, commands.HandleFinalizeUpload)
	mediatr.RegisterHandler(mediator, commands.HandleAbortUpload)
	mediatr.RegisterHandler(mediator, queries.HandleGetUpload)

	mediatr.RegisterHandler(mediator, queries.HandleListArtifacts)
	mediatr.RegisterHandler(mediator, queries.HandleGetArtifact)

	mediatr.RegisterHandler(mediator, queries.HandleGetHealth)

	ioc.RegisterSingleton(dc, func(_ *ioc.DependencyProvider) mediatr.Mediator {
		return mediator
	})
}
