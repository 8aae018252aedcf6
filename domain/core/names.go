package core

// Standard data block section names shared between modules
const (
	SectionLikelihoods            = "likelihoods"
	SectionDataVector             = "data_vector"
	SectionCosmologicalParameters = "cosmological_parameters"
	SectionHaloModelParameters    = "halo_model_parameters"
	SectionDistances              = "distances"
	SectionMatterPowerLin         = "matter_power_lin"
	SectionMatterPowerNL          = "matter_power_nl"
	SectionShearCl                = "shear_cl"
	SectionGalaxyCl               = "galaxy_cl"
	SectionCMBCl                  = "cmb_cl"
	SectionSupernovaParams        = "supernova_params"
	SectionGrowthParameters       = "growth_parameters"
	SectionTestParameters         = "test_parameters"
)

// Suffixes of the per-likelihood outputs written by the Gaussian likelihoods
const (
	SuffixLike              = "_like"
	SuffixTheory            = "_theory"
	SuffixData              = "_data"
	SuffixCovariance        = "_covariance"
	SuffixInverseCovariance = "_inverse_covariance"
	SuffixSimulation        = "_simulation"
)

// Configuration sections every module receives at setup
const (
	SectionPipeline = "pipeline"
	SectionGeneral  = "general"
	SectionLogging  = "logging"
	SectionDebug    = "debug"
)

// SectionModuleOptions is where a module finds its own configuration in the
// block passed to setup
const SectionModuleOptions = "module_options"
