package codetable

var (
	treatmentModifiers  = []string{"GN", "KX", "59", "76", "95", "GT", "XE", "XS", "XP", "XU", "52"}
	evaluationModifiers = []string{"GN", "KX", "59", "52", "95", "GT"}
	therapyModifiers    = []string{"GN", "GO", "GP", "KX", "59", "95", "GT", "XE", "XS", "XP", "XU"}
)

var cptCodes = []CPT{
	{Code: "92507", Description: "Treatment of speech, language, voice, communication, and/or auditory processing disorder; individual", RateCents: 9178, Modifiers: treatmentModifiers},
	{Code: "92508", Description: "Treatment of speech, language, voice, communication, and/or auditory processing disorder; group", RateCents: 2847, Modifiers: treatmentModifiers},
	{Code: "92521", Description: "Evaluation of speech fluency", RateCents: 13808, Modifiers: evaluationModifiers},
	{Code: "92522", Description: "Evaluation of speech sound production", RateCents: 11287, Modifiers: evaluationModifiers},
	{Code: "92523", Description: "Evaluation of speech sound production with evaluation of language comprehension and expression", RateCents: 23203, Modifiers: evaluationModifiers},
	{Code: "92524", Description: "Behavioral and qualitative analysis of voice and resonance", RateCents: 11540, Modifiers: evaluationModifiers},
	{Code: "92526", Description: "Treatment of swallowing dysfunction and/or oral function for feeding", RateCents: 10077, Modifiers: treatmentModifiers},
	{Code: "92597", Description: "Evaluation for use and/or fitting of voice prosthetic device", RateCents: 7380, Modifiers: evaluationModifiers},
	{Code: "92605", Description: "Evaluation for prescription of non-speech-generating augmentative and alternative communication device, first hour", RateCents: 9152, Modifiers: evaluationModifiers},
	{Code: "92606", Description: "Therapeutic service for use of non-speech-generating device, including programming", RateCents: 7896, Modifiers: treatmentModifiers},
	{Code: "92607", Description: "Evaluation for prescription for speech-generating augmentative and alternative communication device, first hour", RateCents: 14273, Modifiers: evaluationModifiers},
	{Code: "92608", Description: "Evaluation for speech-generating device, each additional 30 minutes", RateCents: 5660, Modifiers: evaluationModifiers},
	{Code: "92609", Description: "Therapeutic services for the use of speech-generating device, including programming and modification", RateCents: 11749, Modifiers: treatmentModifiers},
	{Code: "92610", Description: "Evaluation of oral and pharyngeal swallowing function", RateCents: 8474, Modifiers: evaluationModifiers},
	{Code: "92626", Description: "Evaluation of auditory function for surgically implanted device, first hour", RateCents: 8985, Modifiers: evaluationModifiers},
	{Code: "92627", Description: "Evaluation of auditory function for surgically implanted device, each additional 15 minutes", RateCents: 2092, Modifiers: evaluationModifiers},
	{Code: "96105", Description: "Assessment of aphasia with interpretation and report, per hour", RateCents: 11340, Modifiers: therapyModifiers},
	{Code: "97129", Description: "Therapeutic interventions that focus on cognitive function, initial 15 minutes", RateCents: 2579, Modifiers: therapyModifiers},
	{Code: "97130", Description: "Therapeutic interventions that focus on cognitive function, each additional 15 minutes", RateCents: 2456, Modifiers: therapyModifiers},
	{Code: "92506", Description: "Evaluation of speech, language, voice, communication, and/or auditory processing", RateCents: 0, Deprecated: true, Replacements: []string{"92521", "92522", "92523", "92524"}},
}

var icd10Codes = []ICD10{
	{Code: "F80.0", Description: "Phonological disorder", Billable: true},
	{Code: "F80.1", Description: "Expressive language disorder", Billable: true},
	{Code: "F80.2", Description: "Mixed receptive-expressive language disorder", Billable: true},
	{Code: "F80.4", Description: "Speech and language development delay due to hearing loss", Billable: true},
	{Code: "F80.8", Description: "Other developmental disorders of speech and language", Billable: false, Replacements: []string{"F80.81", "F80.82", "F80.89"}},
	{Code: "F80.81", Description: "Childhood onset fluency disorder", Billable: true},
	{Code: "F80.82", Description: "Social pragmatic communication disorder", Billable: true},
	{Code: "F80.89", Description: "Other developmental disorders of speech and language", Billable: true},
	{Code: "F80.9", Description: "Developmental disorder of speech and language, unspecified", Billable: true},
	{Code: "F84.0", Description: "Autistic disorder", Billable: true},
	{Code: "F98.5", Description: "Adult onset fluency disorder", Billable: true},
	{Code: "R47.01", Description: "Aphasia", Billable: true},
	{Code: "R47.02", Description: "Dysphasia", Billable: true},
	{Code: "R47.1", Description: "Dysarthria and anarthria", Billable: true},
	{Code: "R47.8", Description: "Other speech disturbances", Billable: false, Replacements: []string{"R47.81", "R47.82", "R47.89"}},
	{Code: "R47.81", Description: "Slurred speech", Billable: true},
	{Code: "R47.82", Description: "Fluency disorder in conditions classified elsewhere", Billable: true},
	{Code: "R47.89", Description: "Other speech disturbances", Billable: true},
	{Code: "R48.2", Description: "Apraxia", Billable: true},
	{Code: "R48.8", Description: "Other symbolic dysfunctions", Billable: true},
	{Code: "R49.0", Description: "Dysphonia", Billable: true},
	{Code: "R13.1", Description: "Dysphagia", Billable: false, Replacements: []string{"R13.10", "R13.11", "R13.12", "R13.13", "R13.14", "R13.19"}},
	{Code: "R13.10", Description: "Dysphagia, unspecified", Billable: true},
	{Code: "R13.11", Description: "Dysphagia, oral phase", Billable: true},
	{Code: "R13.12", Description: "Dysphagia, oropharyngeal phase", Billable: true},
	{Code: "R13.13", Description: "Dysphagia, pharyngeal phase", Billable: true},
	{Code: "R13.14", Description: "Dysphagia, pharyngoesophageal phase", Billable: true},
	{Code: "R13.19", Description: "Other dysphagia", Billable: true},
	{Code: "Q38.1", Description: "Ankyloglossia", Billable: true},
	{Code: "H90.3", Description: "Sensorineural hearing loss, bilateral", Billable: true},
	{Code: "G40.802", Description: "Other epilepsy, not intractable, without status epilepticus", Billable: true},
	{Code: "F80.3", Description: "Acquired aphasia with epilepsy", Billable: false, Deprecated: true, Replacements: []string{"G40.802"}},
}

var modifierCodes = []Modifier{
	{Code: "GN", Description: "Services delivered under an outpatient speech-language pathology plan of care"},
	{Code: "GO", Description: "Services delivered under an outpatient occupational therapy plan of care"},
	{Code: "GP", Description: "Services delivered under an outpatient physical therapy plan of care"},
	{Code: "KX", Description: "Requirements specified in the medical policy have been met"},
	{Code: "59", Description: "Distinct procedural service"},
	{Code: "76", Description: "Repeat procedure by same physician or other qualified health care professional"},
	{Code: "95", Description: "Synchronous telemedicine service rendered via real-time interactive audio and video"},
	{Code: "GT", Description: "Via interactive audio and video telecommunication systems"},
	{Code: "XE", Description: "Separate encounter"},
	{Code: "XS", Description: "Separate structure"},
	{Code: "XP", Description: "Separate practitioner"},
	{Code: "XU", Description: "Unusual non-overlapping service"},
	{Code: "52", Description: "Reduced services"},
}

var taxonomyCodes = []Taxonomy{
	{Code: "235Z00000X", Description: "Speech-Language Pathologist"},
	{Code: "231H00000X", Description: "Audiologist"},
	{Code: "225X00000X", Description: "Occupational Therapist"},
	{Code: "225100000X", Description: "Physical Therapist"},
	{Code: "193200000X", Description: "Multi-Specialty Group"},
	{Code: "193400000X", Description: "Single Specialty Group"},
	{Code: "261QR0400X", Description: "Clinic/Center, Rehabilitation"},
}
